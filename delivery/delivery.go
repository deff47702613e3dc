// Package delivery sends one-time passwords and password reset tokens to
// users over out-of-band channels. The directory server picks a mechanism,
// resolves the recipient from the user entry and hands the message off.
package delivery

import "sync"

// Mechanism delivers messages over one out-of-band channel, such as SMS or
// mail.
type Mechanism interface {
	// Name returns the mechanism name, as used in preferred delivery
	// mechanism lists.
	Name() string

	// Deliver sends body to the recipient. subject may be empty for
	// channels without one.
	Deliver(recipient, subject, body string) error
}

// Record is one delivered message.
type Record struct {
	Recipient string
	Subject   string
	Body      string
}

// Recorder is an in-memory Mechanism that keeps every delivered message. It
// stands in for a messaging gateway in tests.
type Recorder struct {
	name string

	mu      sync.Mutex
	records []Record
}

// NewRecorder creates a recorder presenting itself under the given
// mechanism name.
func NewRecorder(name string) *Recorder {
	return &Recorder{name: name}
}

// Name returns the mechanism name.
func (r *Recorder) Name() string {
	return r.name
}

// Deliver records the message.
func (r *Recorder) Deliver(recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

// Deliveries returns a copy of all recorded messages in delivery order.
func (r *Recorder) Deliveries() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Last returns the most recently delivered message.
func (r *Recorder) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return Record{}, false
	}
	return r.records[len(r.records)-1], true
}
