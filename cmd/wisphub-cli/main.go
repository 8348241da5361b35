package main

import "wisppos-backend/cmd/wisphub-cli/cmd"

func main() {
	cmd.Execute()
}
