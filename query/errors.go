package query

import "errors"

// Error definitions
var (
	ErrDatabaseConnection    = errors.New("database connection failed")
	ErrQueryExecution        = errors.New("query execution failed")
	ErrDangerousQuery        = errors.New("dangerous query detected")
	ErrInvalidOutputFormat   = errors.New("invalid output format")
	ErrTemplateNotFound      = errors.New("template not found")
	ErrUnsupportedFileFormat = errors.New("unsupported template file format")
	ErrDuplicateTemplate     = errors.New("duplicate template name")
	ErrInvalidParams         = errors.New("invalid parameters")
	ErrMissingRequiredParam  = errors.New("missing required parameter")
)
