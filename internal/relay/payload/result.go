package payload

// Result is the outcome of one action. It is echoed to the originator inside an Ack
// and returned verbatim by the control surface.
type Result struct {
	Success    bool                 `json:"success"`
	Error      string               `json:"error,omitempty"`
	Delivered  *bool                `json:"delivered,omitempty"`
	Recipients *int                 `json:"recipients,omitempty"`
	LobbyID    string               `json:"lobbyId,omitempty"`
	Sent       *int                 `json:"sent,omitempty"`
	Offline    *int                 `json:"offline,omitempty"`
	Failed     *int                 `json:"failed,omitempty"`
	Details    *NotificationDetails `json:"details,omitempty"`
}

// NotificationDetails classifies each targeted user id.
type NotificationDetails struct {
	Sent    []string `json:"sent"`
	Offline []string `json:"offline"`
	Failed  []string `json:"failed"`
}

// OK returns a successful Result.
func OK() Result {
	return Result{Success: true}
}

// Fail returns a failed Result carrying reason.
func Fail(reason string) Result {
	return Result{Success: false, Error: reason}
}

// WithDelivered sets the delivered flag.
func (r Result) WithDelivered(delivered bool) Result {
	r.Delivered = &delivered
	return r
}

// WithRecipients sets the delivered recipient count.
func (r Result) WithRecipients(n int) Result {
	r.Recipients = &n
	return r
}

// WithLobby sets the lobby id.
func (r Result) WithLobby(lobbyID string) Result {
	r.LobbyID = lobbyID
	return r
}

// WithDetails sets per-user notification details and their counts.
func (r Result) WithDetails(d NotificationDetails) Result {
	sent, offline, failed := len(d.Sent), len(d.Offline), len(d.Failed)
	r.Sent, r.Offline, r.Failed = &sent, &offline, &failed
	r.Details = &d
	return r
}
