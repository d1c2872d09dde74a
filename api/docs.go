package api

// @title Curator Capture API
// @version v1.0.0
// @description Collects API traffic recorded by test suites and curates it into a small, current corpus.

// @contact.name API Support

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8778
// @BasePath /
// @schemes http
// @query.collection.format multi
