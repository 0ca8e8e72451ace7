// Package host binds the bridge to the program host.
//
// Runtime delivers program-start and program-stop to the handlers the
// bridge registers at construction, and fans the bridge's peripheral
// notifications out to observers such as the WebSocket hub.
package host
