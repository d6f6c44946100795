package main

import (
	"github.com/openclaw/partnerforge/cmd"
)

func main() {
	cmd.Execute()
}
