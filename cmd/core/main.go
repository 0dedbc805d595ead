// Package main provides the TicketNest offline core library entry point.
// This is a platform-agnostic core that can be embedded by the desktop and
// mobile shells; the resilience services live under internal/.
package main

import (
	"fmt"
	"log"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	fmt.Printf("TicketNest Offline Core v%s\n", Version)
	log.Println("TicketNest Offline Core - Platform-Agnostic Library")
}
