package ledger

import (
	"net/url"
	"strings"
)

// Kind tags one region of the key space.
type Kind string

const (
	KindAgreement       Kind = "agreement"
	KindAgreementCount  Kind = "agreement_count"
	KindAgreementEscrow Kind = "agreement_escrow"
	KindEscrow          Kind = "escrow"
	KindApproval        Kind = "approval"
	KindPayment         Kind = "payment"
	KindPaymentCount    Kind = "payment_count"
	KindFeeCollector    Kind = "platform_fee_collector"
	KindBalance         Kind = "balance"
)

// Key addresses a single persisted value. Keys are compared by exact equality;
// the store never needs range scans.
type Key string

// NewKey joins kind and parts, escaping each part so that identifiers
// containing separators cannot collide with another key.
func NewKey(kind Kind, parts ...string) Key {
	var b strings.Builder
	b.WriteString(string(kind))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return Key(b.String())
}

// Kind returns the tag the key was built with.
func (k Key) Kind() Kind {
	s := string(k)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return Kind(s[:i])
	}
	return Kind(s)
}

func (k Key) String() string {
	return string(k)
}
