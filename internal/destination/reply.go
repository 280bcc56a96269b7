package destination

// Outcome is the closed set of results a transport can report for one
// request. The health state machine only ever branches on Classify, so
// adding an outcome without placing it in a class is impossible to miss
// in tests.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeStored
	OutcomeDeleted
	OutcomeNotFound

	OutcomeTimeout
	OutcomeConnectTimeout
	OutcomeBusy

	OutcomeConnectError
	OutcomeProtocolError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeStored:
		return "stored"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeConnectTimeout:
		return "connect_timeout"
	case OutcomeBusy:
		return "busy"
	case OutcomeConnectError:
		return "connect_error"
	case OutcomeProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Class partitions outcomes by their effect on TKO accounting.
type Class int

const (
	// ClassSuccess resets both failure counters.
	ClassSuccess Class = iota
	// ClassSoft failures knock the destination out only after repeated
	// occurrences, counted separately from hard failures.
	ClassSoft
	// ClassHard failures are severe enough to knock the destination out
	// on their own threshold (typically 1).
	ClassHard
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassSoft:
		return "soft"
	case ClassHard:
		return "hard"
	default:
		return "unknown"
	}
}

// Classify maps every outcome to its failure class. The mapping is total:
// outcomes this package does not know are treated as successes, matching
// the rule that anything which is not an error clears the counters.
func Classify(o Outcome) Class {
	switch o {
	case OutcomeConnectError, OutcomeProtocolError:
		return ClassHard
	case OutcomeTimeout, OutcomeConnectTimeout, OutcomeBusy:
		return ClassSoft
	case OutcomeOK, OutcomeStored, OutcomeDeleted, OutcomeNotFound:
		return ClassSuccess
	default:
		return ClassSuccess
	}
}

// Reply is the transport-reported result of one request.
type Reply struct {
	Result Outcome
}

// IsError reports whether the reply is any kind of failure.
func (r Reply) IsError() bool {
	return Classify(r.Result) != ClassSuccess
}

// Op identifies a key-value operation. The wire encoding is out of scope;
// the health core only needs the diagnostic no-op for probes.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpDelete
	// OpVersion is the lightweight diagnostic request used for recovery
	// probes.
	OpVersion
)

func (op Op) String() string {
	switch op {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpVersion:
		return "version"
	default:
		return "unknown"
	}
}

// Request is a minimal request descriptor handed to the transport.
type Request struct {
	Op  Op
	Key []byte
}
