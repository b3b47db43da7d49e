// hostcorectl is the host-side CLI client for a hostcored-driven device: it
// sends framed request messages over the device's native HID transport and
// prints the response, in place of opening a gRPC connection.
package main

import "github.com/keepkey/hostcore/cmd/hostcorectl/commands"

func main() {
	commands.Execute()
}
