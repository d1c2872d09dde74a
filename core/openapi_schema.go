package core

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"curator/logger"

	"gopkg.in/yaml.v3"
)

var placeholderRe = regexp.MustCompile(`\{[^}]*\}`)

var schemaMethods = []string{"get", "post", "put", "patch", "delete"}

// maxRefDepth bounds chains of refs pointing at refs.
const maxRefDepth = 12

// ResponseSchema holds the required fields of each operation's success
// response, as dotted paths with array levels flattened ("items.id").
type ResponseSchema struct {
	required map[string]map[string]bool
}

func operationKey(method, endpoint string) string {
	return strings.ToUpper(method) + " " + placeholderRe.ReplaceAllString(strings.TrimRight(endpoint, "/"), "{}")
}

// LoadResponseSchema reads an OpenAPI 3 or Swagger 2 document in JSON or YAML.
func LoadResponseSchema(path string) (*ResponseSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	schema, err := ParseResponseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	logger.Info("LoadResponseSchema: loaded required fields for %d operations from %s", len(schema.required), path)
	return schema, nil
}

func ParseResponseSchema(data []byte) (*ResponseSchema, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	doc, ok := stringKeys(raw).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document root is not an object")
	}
	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document has no paths object")
	}

	s := &ResponseSchema{required: map[string]map[string]bool{}}
	for p, item := range paths {
		ops, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for _, method := range schemaMethods {
			op, ok := ops[method].(map[string]interface{})
			if !ok {
				continue
			}
			body := successResponseSchema(doc, op)
			if body == nil {
				continue
			}
			fields := map[string]bool{}
			collectRequired(doc, body, "", fields, nil)
			if len(fields) > 0 {
				s.required[operationKey(method, p)] = fields
			}
		}
	}
	return s, nil
}

// stringKeys converts the map[interface{}]interface{} nodes yaml.v3 produces
// for non-string keys (unquoted status codes such as 200) into string-keyed maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	}
	return v
}

// successResponseSchema returns the schema of the lowest 2xx response, falling
// back to "default".
func successResponseSchema(doc, op map[string]interface{}) map[string]interface{} {
	responses, ok := op["responses"].(map[string]interface{})
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(responses))
	for code := range responses {
		if strings.HasPrefix(code, "2") {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	codes = append(codes, "default")

	for _, code := range codes {
		resp, ok := resolveRef(doc, responses[code], 0).(map[string]interface{})
		if !ok {
			continue
		}
		// Swagger 2
		if schema, ok := resp["schema"].(map[string]interface{}); ok {
			return schema
		}
		// OpenAPI 3
		content, ok := resp["content"].(map[string]interface{})
		if !ok {
			continue
		}
		if media, ok := content["application/json"].(map[string]interface{}); ok {
			if schema, ok := media["schema"].(map[string]interface{}); ok {
				return schema
			}
		}
		types := make([]string, 0, len(content))
		for ct := range content {
			types = append(types, ct)
		}
		sort.Strings(types)
		for _, ct := range types {
			if media, ok := content[ct].(map[string]interface{}); ok {
				if schema, ok := media["schema"].(map[string]interface{}); ok {
					return schema
				}
			}
		}
	}
	return nil
}

// resolveRef follows local "#/..." references.
func resolveRef(doc map[string]interface{}, node interface{}, depth int) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	ref, ok := m["$ref"].(string)
	if !ok || depth > maxRefDepth || !strings.HasPrefix(ref, "#/") {
		return node
	}
	var cur interface{} = doc
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return resolveRef(doc, cur, depth+1)
}

// collectRequired records the required properties of node under prefix. chain
// holds the $refs being expanded so recursive schemas stop at the first repeat.
func collectRequired(doc map[string]interface{}, node interface{}, prefix string, out map[string]bool, chain []string) {
	if m, ok := node.(map[string]interface{}); ok {
		if ref, ok := m["$ref"].(string); ok {
			for _, seen := range chain {
				if seen == ref {
					return
				}
			}
			chain = append(chain[:len(chain):len(chain)], ref)
		}
	}
	schema, ok := resolveRef(doc, node, 0).(map[string]interface{})
	if !ok {
		return
	}
	if all, ok := schema["allOf"].([]interface{}); ok {
		for _, sub := range all {
			collectRequired(doc, sub, prefix, out, chain)
		}
	}
	if items, ok := schema["items"]; ok {
		collectRequired(doc, items, prefix, out, chain)
	}

	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				out[joinPath(prefix, name)] = true
			}
		}
	}
	props, _ := schema["properties"].(map[string]interface{})
	for name, prop := range props {
		resolved, ok := resolveRef(doc, prop, 0).(map[string]interface{})
		if !ok {
			continue
		}
		_, hasProps := resolved["properties"]
		_, hasItems := resolved["items"]
		_, hasAllOf := resolved["allOf"]
		if hasProps || hasItems || hasAllOf {
			collectRequired(doc, prop, joinPath(prefix, name), out, chain)
		}
	}
}

// IsRequired reports whether the field at fieldPath (array indices allowed) is
// declared required in the success response of method+endpoint.
func (s *ResponseSchema) IsRequired(method, endpoint, fieldPath string) bool {
	if s == nil {
		return false
	}
	fields := s.required[operationKey(method, endpoint)]
	return fields[stripIndices(fieldPath)]
}

// RequiredFields lists the required paths of one operation, sorted.
func (s *ResponseSchema) RequiredFields(method, endpoint string) []string {
	if s == nil {
		return nil
	}
	fields := s.required[operationKey(method, endpoint)]
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
