package api

// ResultKind discriminates the three shapes of a CheckpointResult.
type ResultKind string

const (
	ResultProcessed ResultKind = "PROCESSED"
	ResultSkipped   ResultKind = "SKIPPED"
	ResultFailed    ResultKind = "FAILED"
)

// SkipReason explains a ResultSkipped checkpoint.
type SkipReason string

const (
	SkipAlreadyProcessed SkipReason = "already_processed"
	SkipTerminalState    SkipReason = "terminal_state"
	SkipNotSubscribed    SkipReason = "not_subscribed"
)

// CheckpointResult is the outcome of one checkpoint pass. Exactly one shape
// is returned per invocation; callers should switch on Kind and must not rely
// on fields belonging to another shape:
//
//	switch res.Kind {
//	case api.ResultProcessed:
//	    // res.CommandTypes
//	case api.ResultSkipped:
//	    // res.Reason
//	case api.ResultFailed:
//	    // res.Err
//	}
//
// Failures are always carried here as values; ProcessCheckpoint never
// propagates them as errors to the caller.
type CheckpointResult struct {
	Kind ResultKind

	// CommandTypes lists the types of the commands emitted by a
	// ResultProcessed checkpoint, in emission order.
	CommandTypes []string

	// Reason is set for ResultSkipped.
	Reason SkipReason

	// Err is set for ResultFailed.
	Err error
}

// Processed builds the success shape.
func Processed(commandTypes []string) CheckpointResult {
	return CheckpointResult{Kind: ResultProcessed, CommandTypes: commandTypes}
}

// Skipped builds the skip shape.
func Skipped(reason SkipReason) CheckpointResult {
	return CheckpointResult{Kind: ResultSkipped, Reason: reason}
}

// Failed builds the failure shape.
func Failed(err error) CheckpointResult {
	return CheckpointResult{Kind: ResultFailed, Err: err}
}
