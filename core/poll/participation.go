package poll

// Participation authorizes one Voter to vote on one Question. At most one row
// exists per (voter, question) pair; VotesCast never exceeds the question's
// VotesPerSession and only increases, only via the vote-casting transaction.
type Participation struct {
	ID         string `json:"id"`
	VoterID    string `json:"voter_id"`
	QuestionID string `json:"question_id"`
	IsAllowed  bool   `json:"is_allowed"`
	VotesCast  int    `json:"votes_cast"`
}

// HasQuota reports whether the participation still has votes left on q.
func (p Participation) HasQuota(q Question) bool {
	return p.VotesCast < q.VotesPerSession
}
