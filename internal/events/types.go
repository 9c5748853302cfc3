package events

// Payload is the kind-specific body of an event.
type Payload interface {
	payload()
}

// StatusPayload describes a MATCH_STATUS change ("Toss Update", "Wicket Fall", ...).
type StatusPayload struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// BallPayload is a single delivery. BOUNDARY events reuse it with Runs of 4 or 6.
type BallPayload struct {
	Runs       int    `json:"runs"`
	Commentary string `json:"commentary"`
	Over       int    `json:"over"`
	Ball       int    `json:"ball"` // 1..6 within the over
	Batsman    string `json:"batsman"`
	Bowler     string `json:"bowler"`
}

// WicketPayload is a dismissal.
type WicketPayload struct {
	PlayerOut  string `json:"playerOut"`
	Dismissal  string `json:"dismissal"`
	Commentary string `json:"commentary"`
	Over       int    `json:"over"`
	Ball       int    `json:"ball"`
	Bowler     string `json:"bowler"`
}

func (StatusPayload) payload() {}
func (BallPayload) payload()   {}
func (WicketPayload) payload() {}
