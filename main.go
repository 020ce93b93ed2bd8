package main

import "github.com/bytecinema/cinema-auth/cmd"

func main() {
	cmd.Execute()
}
