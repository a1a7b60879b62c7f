package main

import "github.com/talktorobson/yellow-grid-booking/cmd"

func main() {
	cmd.Execute()
}
