package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "status":
			statusCmd(os.Args[2:])
			return
		case "agents":
			agentsCmd(os.Args[2:])
			return
		case "spawn":
			spawnCmd(os.Args[2:])
			return
		case "remove":
			removeCmd(os.Args[2:])
			return
		case "jump":
			jumpCmd(os.Args[2:])
			return
		case "move":
			moveCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "help", "-h", "--help":
			usage()
			return
		default:
			fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
			usage()
			os.Exit(2)
		}
	}
	statusCmd(os.Args[1:])
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin COMMAND [flags]

  status                                  coordinator status (the default)
  agents                                  list the roster
  spawn   [-pos X,Y,Z] [-config JSON] [-f FILE] [-n N]
  remove  AGENT_ID
  jump    AGENT_ID
  move    -dest X,Y,Z AGENT_ID
  db      [-data DIR|-db PATH] [flags] events|snapshots

HTTP commands take -url (default http://127.0.0.1:8081). db reads the
sqlite index directly and works against a stopped coordinator too.`)
}
