package mqtt

// Topic prefixes for the daliserver MQTT mirror.
//
// All topics live under a single daliserver/ namespace:
//
//	daliserver/bus/event      unsolicited bus traffic (outband)
//	daliserver/bus/response   request results (inband)
//	daliserver/system/status  online/offline status (retained)
const (
	// TopicPrefixBus is the base for bus traffic topics.
	TopicPrefixBus = "daliserver/bus"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "daliserver/system"
)

// Topics provides builders for daliserver MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// BusEvent returns the topic for unsolicited bus traffic.
func (Topics) BusEvent() string {
	return TopicPrefixBus + "/event"
}

// BusResponse returns the topic for request results.
func (Topics) BusResponse() string {
	return TopicPrefixBus + "/response"
}

// SystemStatus returns the topic for daliserver's own status.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
