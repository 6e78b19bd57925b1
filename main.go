package main

import "github.com/dayuer/qqbridge/cmd"

func main() {
	cmd.Execute()
}
