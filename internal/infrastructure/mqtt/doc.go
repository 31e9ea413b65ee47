// Package mqtt mirrors DALI bus traffic to an MQTT broker.
//
// The mirror is optional and strictly one-way: it publishes outband bus
// events, inband request results, and daliserver's own online/offline
// status. It never influences the TCP protocol or the bus.
package mqtt
