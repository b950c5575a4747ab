package call

type State string

const (
	StateIdle                State = "idle"
	StateCapabilitiesOffered State = "capabilitiesOffered"
	StateOffering            State = "offering"
	StateAnswering           State = "answering"
	StateConnected           State = "connected"
	StateEnded               State = "ended"
)
