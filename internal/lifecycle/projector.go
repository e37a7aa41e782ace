package lifecycle

import "github.com/omenlabs/omend/internal/domain"

// Projection is the single read model the interface consumes per tracked
// record: a status, an optional classified error, and an optional hash. The
// interface never inspects the constituent components directly.
type Projection struct {
	ID          string                 `json:"id"`
	Kind        domain.OperationKind   `json:"kind"`
	Status      domain.OperationStatus `json:"status"`
	Hash        string                 `json:"hash,omitempty"`
	ErrorCode   domain.ErrorCode       `json:"error_code,omitempty"`
	Error       string                 `json:"error,omitempty"`
	UserMessage string                 `json:"user_message,omitempty"`
	Terminal    bool                   `json:"terminal"`
}

// Project collapses a record into its interface read model.
func Project(rec domain.Record) Projection {
	p := Projection{
		ID:       rec.ID,
		Kind:     rec.Intent.Kind,
		Status:   rec.Status,
		Hash:     rec.OperationHash,
		Terminal: rec.Status.Terminal(),
	}
	if rec.Err != nil {
		p.ErrorCode = rec.Err.Code
		p.Error = rec.Err.Message
		p.UserMessage = rec.Err.UserMessage()
	}
	return p
}

// Projection returns the current read model for the machine's record.
func (m *Machine) Projection() Projection {
	return Project(m.Record())
}
