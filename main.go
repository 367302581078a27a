package main

import "github.com/call-report/data-collector/cmd"

func main() {
	cmd.Execute()
}
