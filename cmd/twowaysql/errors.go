package main

import "errors"

// Sentinel errors
var (
	ErrCheckFailed         = errors.New("template check failed")
	ErrNoDatabase          = errors.New("no database connection specified")
	ErrEnvironmentNotFound = errors.New("environment not found in config")
	ErrOutputFileCreation  = errors.New("failed to create output file")
	ErrAmbiguousTemplate   = errors.New("file holds several templates; pick one with file#name")
)
