package main

import (
	"groupfm/cmd"
)

func main() {
	cmd.Execute()
}
