// Command inksightd synchronizes handwritten notes from a tablet into a
// local cache, over SSH when the device is on the local network and over
// the cloud API otherwise.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
