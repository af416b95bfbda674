package main

import "github.com/dhcgn/mbox-reply-parser/cmd"

func main() {
	cmd.Execute()
}
