package main

import (
	"internship-reporter/cmd/reporter/commands"
	"internship-reporter/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
