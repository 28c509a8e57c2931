package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/eldtechnologies/cipherroom/clients/go/cipherroom"
)

func main() {
	var base string
	flagSet := pflag.NewFlagSet("genkey", pflag.ContinueOnError)
	flagSet.StringVarP(&base, "base", "b", "", "server URL to prefix the share link with")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	roomID, secret, err := cipherroom.NewRoom()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate room: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Room id:     %s\n", roomID)
	fmt.Printf("Room secret: %s\n", secret)
	fmt.Printf("Share link:  %s/room/%s#%s\n", base, roomID, secret)
}
