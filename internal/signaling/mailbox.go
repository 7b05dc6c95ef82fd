package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	ErrEmpty    = errors.New("no offers waiting")
	ErrNoAnswer = errors.New("no answer yet")
)

// Offer is a patient's WebRTC session offer waiting for a doctor.
type Offer struct {
	UserID        int64             `json:"user_id"`
	SDP           string            `json:"sdp"`
	ICECandidates []json.RawMessage `json:"ice_candidates"`
}

// Answer is the doctor's reply, addressed to one patient.
type Answer struct {
	PatientID     int64             `json:"patient_id"`
	SDP           string            `json:"sdp"`
	ICECandidates []json.RawMessage `json:"ice_candidates"`
}

// Mailbox hands offers to doctors in arrival order and answers back to
// patients. Taking an answer removes it.
type Mailbox interface {
	EnqueueOffer(ctx context.Context, o Offer) error
	DequeueOffer(ctx context.Context) (*Offer, error)
	PutAnswer(ctx context.Context, a Answer) error
	TakeAnswer(ctx context.Context, patientID int64) (*Answer, error)
}

type storedAnswer struct {
	answer  Answer
	expires time.Time
}

// MemoryMailbox serves a single process.
type MemoryMailbox struct {
	mu      sync.Mutex
	offers  []Offer
	answers map[int64]storedAnswer
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryMailbox keeps answers for ttl; zero keeps them until taken.
func NewMemoryMailbox(ttl time.Duration) *MemoryMailbox {
	return &MemoryMailbox{
		answers: make(map[int64]storedAnswer),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryMailbox) EnqueueOffer(_ context.Context, o Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offers = append(m.offers, o)
	return nil
}

func (m *MemoryMailbox) DequeueOffer(_ context.Context) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.offers) == 0 {
		return nil, ErrEmpty
	}
	o := m.offers[0]
	m.offers[0] = Offer{}
	m.offers = m.offers[1:]
	return &o, nil
}

func (m *MemoryMailbox) PutAnswer(_ context.Context, a Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneExpired(now)

	var expires time.Time
	if m.ttl > 0 {
		expires = now.Add(m.ttl)
	}
	m.answers[a.PatientID] = storedAnswer{answer: a, expires: expires}
	return nil
}

// pruneExpired drops answers nobody collected in time. Callers hold mu.
func (m *MemoryMailbox) pruneExpired(now time.Time) {
	for id, stored := range m.answers {
		if !stored.expires.IsZero() && now.After(stored.expires) {
			delete(m.answers, id)
		}
	}
}

func (m *MemoryMailbox) TakeAnswer(_ context.Context, patientID int64) (*Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.answers[patientID]
	if !ok {
		return nil, ErrNoAnswer
	}
	delete(m.answers, patientID)

	if !stored.expires.IsZero() && m.now().After(stored.expires) {
		return nil, ErrNoAnswer
	}
	return &stored.answer, nil
}
