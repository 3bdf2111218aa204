package cmd

// Exit codes for the moth CLI
const (
	// ExitSuccess indicates all tests passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more tests failed
	ExitTestFailure = 1

	// ExitSpecError indicates the suite file could not be loaded or is invalid
	ExitSpecError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitServerError indicates the server under test could not be reached
	ExitServerError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)
