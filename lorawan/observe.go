package lorawan

import "loranode-go/bus"

// StateTopic carries the device state as a retained message.
var StateTopic = bus.T("lorawan", "state")

// BusObserver publishes every state change on conn.
func BusObserver(conn *bus.Connection) func(State) {
	return func(s State) {
		conn.Publish(conn.NewMessage(StateTopic, s, true))
	}
}
