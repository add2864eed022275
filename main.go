package main

import "github.com/arcward/rolecooldown/cmd"

func main() {
	cmd.Execute()
}
