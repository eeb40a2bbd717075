package promotion

// VerificationStatus is the crowd trust classification of a promotion.
type VerificationStatus string

const (
	Unverified VerificationStatus = "unverified"
	Pending    VerificationStatus = "pending"
	Verified   VerificationStatus = "verified"
	Disputed   VerificationStatus = "disputed"
)

// DeriveStatus computes the trust status from the verification count v and
// dispute count d. Dispute dominance is evaluated before verification
// sufficiency; reordering the checks changes the classification of contested
// promotions.
func DeriveStatus(v, d int) VerificationStatus {
	if d >= 3 || (d > v && d >= 2) {
		return Disputed
	}
	if v >= 5 {
		if d == 0 || v/d >= 3 {
			return Verified
		}
	}
	if v >= 2 {
		return Pending
	}
	return Unverified
}

// Trusted reports whether promotion data in this status may appear in
// calculations. Disputed promotions are withheld until the dispute resolves.
func (s VerificationStatus) Trusted() bool {
	return s != Disputed
}

// CastVerify records a verification vote from identity. A prior dispute vote
// by the same identity is withdrawn first; verify and dispute are mutually
// exclusive per identity. It returns false when the identity already holds a
// verify vote, making retried requests no-ops.
func (p *Promotion) CastVerify(identity string) bool {
	if member(p.VerifiedBy, identity) {
		return false
	}
	p.DisputedBy = remove(p.DisputedBy, identity)
	p.VerifiedBy = append(p.VerifiedBy, identity)
	p.recountVotes()
	p.VerificationStatus = DeriveStatus(p.VerificationCount, p.DisputeCount)
	return true
}

// CastDispute records a dispute vote from identity, withdrawing any prior
// verify vote. It returns false when the identity already holds a dispute
// vote.
func (p *Promotion) CastDispute(identity string) bool {
	if member(p.DisputedBy, identity) {
		return false
	}
	p.VerifiedBy = remove(p.VerifiedBy, identity)
	p.DisputedBy = append(p.DisputedBy, identity)
	p.recountVotes()
	p.VerificationStatus = DeriveStatus(p.VerificationCount, p.DisputeCount)
	return true
}

// CastAdminVerify short-circuits the state machine: the promotion becomes
// verified immediately and the verification count is incremented, bypassing
// the volume and ratio thresholds. This is the only transition that reaches
// verified without five votes.
func (p *Promotion) CastAdminVerify(identity string) {
	if !member(p.VerifiedBy, identity) {
		p.DisputedBy = remove(p.DisputedBy, identity)
		p.VerifiedBy = append(p.VerifiedBy, identity)
	}
	p.recountVotes()
	p.VerificationStatus = Verified
}

// recountVotes keeps the counters in lockstep with the identity sets. Set
// semantics, not the counters, are the source of truth; this prevents double
// counting under retried requests.
func (p *Promotion) recountVotes() {
	p.VerificationCount = len(p.VerifiedBy)
	p.DisputeCount = len(p.DisputedBy)
}

func remove(set []string, v string) []string {
	out := set[:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
