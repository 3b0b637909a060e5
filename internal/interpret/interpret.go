// Package interpret classifies assistant backend replies into a closed set
// of semantic shapes and normalizes them into update commands for the
// conversation store and the job-state reconciler.
package interpret

import (
	"encoding/json"

	"github.com/ashureev/jobpilot/internal/domain"
)

// Kind tags a classified reply shape.
type Kind string

const (
	// KindClarification means the backend paused and is waiting on an answer.
	KindClarification Kind = "clarification"
	// KindList means the reply carries a full bucket listing.
	KindList Kind = "list"
	// KindSuccess means the backend finished a task run.
	KindSuccess Kind = "success"
	// KindGeneric covers every other reply; a chat-only message or a no-op.
	KindGeneric Kind = "generic"
)

// Wire status discriminators sent by the backend.
const (
	statusClarification = "waiting_for_clarification"
	statusList          = "list"
	statusSuccess       = "success"
)

// defaultQuestion is shown when a clarification reply omits its question.
const defaultQuestion = "Can you clarify?"

// Result is the normalized outcome of classifying one reply.
type Result struct {
	Kind Kind

	// Message is the assistant bubble text. Empty means the reply produces
	// no chat bubble; the engine never synthesizes text the server did not
	// provide.
	Message string

	// Interrupt is the pending clarification, non-nil exactly when Kind is
	// KindClarification. Its payload is set only when the reply carried one;
	// a clarification without a payload still blocks on an answer.
	Interrupt *domain.PendingInterrupt

	// Bucket and Items name the bucket to replace, valid when Kind is
	// KindList.
	Bucket domain.Outcome
	Items  []domain.JobRecord

	// Applied holds a replacement for the applied bucket carried by
	// clarification ("applied so far") and success ("companies applied")
	// replies. Nil means no replacement.
	Applied []domain.JobRecord
}

// rawReply covers every field spelling the backend uses across its reply
// shapes. Unknown fields are ignored.
type rawReply struct {
	Status string `json:"status"`

	Question     json.RawMessage    `json:"question"`
	Interrupt    json.RawMessage    `json:"interrupt"`
	AppliedSoFar []domain.JobRecord `json:"applied_so_far"`

	Kind        string             `json:"kind"`
	ListedKind  string             `json:"listed_kind"`
	Items       []domain.JobRecord `json:"items"`
	ListedItems []domain.JobRecord `json:"listed_items"`

	Message json.RawMessage `json:"message"`
	Msg     json.RawMessage `json:"msg"`

	CompaniesApplied []domain.JobRecord `json:"companies_applied"`
	AppliedReceipts  []domain.JobRecord `json:"applied_receipts"`
	Results          []domain.JobRecord `json:"results"`
}

// Classify maps a raw reply body onto exactly one Result. Classification
// follows the status discriminator in priority order: clarification, list,
// success, generic. Replies that parse but match no known shape degrade to
// KindGeneric; classification never fails.
func Classify(raw json.RawMessage) Result {
	var reply rawReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Result{Kind: KindGeneric}
	}

	switch reply.Status {
	case statusClarification:
		return classifyClarification(reply)
	case statusList:
		return classifyList(reply)
	case statusSuccess:
		return classifySuccess(reply)
	default:
		return Result{Kind: KindGeneric, Message: renderText(firstRaw(reply.Message, reply.Msg))}
	}
}

func classifyClarification(reply rawReply) Result {
	question := renderText(reply.Question)
	if question == "" {
		question = defaultQuestion
	}

	res := Result{
		Kind:      KindClarification,
		Message:   question,
		Applied:   reply.AppliedSoFar,
		Interrupt: &domain.PendingInterrupt{Question: question},
	}
	if len(reply.Interrupt) > 0 && string(reply.Interrupt) != "null" {
		res.Interrupt.Payload = append([]byte(nil), reply.Interrupt...)
	}
	return res
}

func classifyList(reply rawReply) Result {
	kind := reply.Kind
	if kind == "" {
		kind = reply.ListedKind
	}
	items := reply.Items
	if items == nil {
		items = reply.ListedItems
	}
	if items == nil {
		items = []domain.JobRecord{}
	}

	res := Result{
		Kind:    KindList,
		Message: renderText(firstRaw(reply.Message, reply.Msg)),
		Items:   items,
	}
	switch kind {
	case string(domain.OutcomeApplied):
		res.Bucket = domain.OutcomeApplied
	case string(domain.OutcomeRejected):
		res.Bucket = domain.OutcomeRejected
	default:
		// Listings of unknown kinds (e.g. raw matches) update no bucket.
		res.Bucket = ""
	}
	return res
}

func classifySuccess(reply rawReply) Result {
	applied := reply.CompaniesApplied
	if applied == nil {
		applied = reply.AppliedReceipts
	}
	if applied == nil {
		applied = reply.Results
	}

	return Result{
		Kind:    KindSuccess,
		Message: renderText(firstRaw(reply.Message, reply.Msg)),
		Applied: applied,
	}
}

// renderText turns a JSON value into display text. Strings are used
// verbatim; any other well-formed value is rendered as stable indented JSON
// rather than dropped. Absent and null values yield "".
func renderText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}

func firstRaw(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}
