package domain

// ---------------------------------------------------------------------------
// Connection status
// ---------------------------------------------------------------------------

// ConnectionStatus is the state of the WhatsApp session.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusPairing      ConnectionStatus = "pairing"
	StatusLoggedOut    ConnectionStatus = "logged_out"
)

func (cs ConnectionStatus) String() string { return string(cs) }

// ---------------------------------------------------------------------------
// Access control
// ---------------------------------------------------------------------------

// AccessControlList limits which senders the relay processes.
type AccessControlList struct {
	AllowList []string `json:"allow_list"`
}

func NewAccessControlList(allowList []string) AccessControlList {
	if allowList == nil {
		allowList = []string{}
	}
	return AccessControlList{AllowList: allowList}
}

// IsAllowed returns true if the sender is listed, or if the list is empty.
func (acl AccessControlList) IsAllowed(senderID string) bool {
	if len(acl.AllowList) == 0 {
		return true
	}
	for _, allowed := range acl.AllowList {
		if allowed == senderID {
			return true
		}
	}
	return false
}
