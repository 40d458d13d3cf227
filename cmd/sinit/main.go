package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
)

func main() {
	logging.Setup(os.Stdout, false)

	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
