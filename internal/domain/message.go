package domain

// ContactContext carries the contact fields available to template rendering
// and generation. Custom holds workspace-defined merge fields the engine
// passes through without interpreting.
type ContactContext struct {
	ContactID string            `json:"contact_id"`
	Email     string            `json:"email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Company   string            `json:"company"`
	Title     string            `json:"title"`
	Custom    map[string]string `json:"custom,omitempty"`
}

// Draft is the output of the content-generation collaborator: an unsent
// subject/body pair for one step of one enrollment.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// OutboundMessage is what the transport collaborator actually sends.
type OutboundMessage struct {
	To        string `json:"to"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// ReplyLabel enumerates the classifier's output labels.
type ReplyLabel string

const (
	LabelInterested  ReplyLabel = "interested"
	LabelObjection   ReplyLabel = "objection"
	LabelOther       ReplyLabel = "other"
	LabelOutOfOffice ReplyLabel = "out_of_office"
	LabelWrongPerson ReplyLabel = "wrong_person"
	LabelUnsubscribe ReplyLabel = "unsubscribe"
	LabelBounce      ReplyLabel = "bounce"
)

// Substantive reports whether the label counts as a real reply: anything
// other than out-of-office, bounce, or unsubscribe terminates the
// enrollment as replied.
func (l ReplyLabel) Substantive() bool {
	switch l {
	case LabelOutOfOffice, LabelUnsubscribe, LabelBounce, LabelWrongPerson:
		return false
	}
	return true
}

// Classification is the opaque classifier's verdict on an inbound reply.
type Classification struct {
	Label      ReplyLabel `json:"label"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary,omitempty"`
}
