// cipherroom CLI - command line client for cipherroom servers
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/eldtechnologies/cipherroom/clients/go/cipherroom"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := cipherroom.NewClient(os.Getenv("CIPHERROOM_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "newroom":
		roomID, secret, err := cipherroom.NewRoom()
		exitOnError(err)
		fmt.Printf("%s/room/%s#%s\n", client.BaseURL, roomID, secret)

	case "post":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: cipherroom post <room#secret> <user> <message>")
			os.Exit(1)
		}
		roomID, secret, err := cipherroom.ParseShareLink(os.Args[2])
		exitOnError(err)
		msg, err := client.Post(roomID, secret, os.Args[3], strings.Join(os.Args[4:], " "))
		exitOnError(err)
		fmt.Printf("Posted: %d at %s\n", msg.ID, msg.Timestamp)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: cipherroom read <room#secret> [since_id]")
			os.Exit(1)
		}
		roomID, secret, err := cipherroom.ParseShareLink(os.Args[2])
		exitOnError(err)

		var q cipherroom.Query
		if len(os.Args) > 3 {
			q.SinceID, err = strconv.ParseUint(os.Args[3], 10, 64)
			exitOnError(err)
		}
		entries, err := client.Read(roomID, secret, q)
		exitOnError(err)
		for _, e := range entries {
			if e.Err != nil {
				fmt.Printf("#%d [%s] <undecryptable: %v>\n", e.ID, e.Timestamp, e.Err)
				continue
			}
			fmt.Printf("#%d [%s] %s: %s\n", e.ID, e.Timestamp, e.User, e.Text)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`cipherroom CLI - end-to-end encrypted rooms

Usage: cipherroom <command> [options]

Commands:
  newroom                            Create a room id and secret
  post <room#secret> <user> <text>   Encrypt and post a message
  read <room#secret> [since_id]      Read and decrypt messages
  health                             Check server health

Environment:
  CIPHERROOM_URL   Server URL (default: http://localhost:8080)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
