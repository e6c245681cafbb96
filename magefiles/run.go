//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

type Test mg.Namespace

// Builds the binary and loads every texture and font found in assets/.
func (Run) Demo() error {
	mg.Deps(Build.Binary)

	args, err := demoArgs("assets")
	if err != nil {
		return err
	}
	fmt.Println("Run demo...")
	_, err = executeCmd("./bin/"+binaryName, withArgs(args...), withStream())
	return err
}

// Runs the unit tests on the headless device.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}

func demoArgs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var args []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if flag := assetFlag(e.Name()); flag != "" {
			args = append(args, flag, dir+"/"+e.Name())
		}
	}
	return args, nil
}
