package fsm

import (
	"context"
	"os"
	"testing"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingStages(order *[]string, failAt string) []install.Stage {
	stages := make([]install.Stage, 0, len(install.StageNames))
	for i, name := range install.StageNames {
		name := name
		stages = append(stages, install.Stage{
			Name:     name,
			Position: i + 1,
			Forward: func(context.Context, *install.Context) error {
				*order = append(*order, name)
				if name == failAt {
					return errors.New("stage exploded")
				}
				return nil
			},
		})
	}
	return stages
}

func TestRegister_RequiresEveryStage(t *testing.T) {
	var order []string
	stages := recordingStages(&order, "")[:3]
	run := install.NewRun(stages, &install.Context{RegistrationID: "dev"}, nil)

	_, _, err := NewMachine(context.Background(), run).Register(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), StateProvision)
}

func TestEngine_RunsStagesInOrder(t *testing.T) {
	root := t.TempDir()
	var order []string
	run := install.NewRun(recordingStages(&order, ""), &install.Context{RegistrationID: "dev"}, nil)

	require.NoError(t, NewEngine(root).Drive(context.Background(), run))
	assert.Equal(t, install.StageNames, order)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "journal directory must be removed after the run")
}

func TestEngine_FailureStopsChain(t *testing.T) {
	var order []string
	run := install.NewRun(recordingStages(&order, install.StageProvision), &install.Context{RegistrationID: "dev"}, nil)

	err := NewEngine(t.TempDir()).Drive(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage exploded")
	assert.Equal(t, []string{
		install.StageVMSwitch,
		install.StageInstallRuntime,
		install.StageConnectivity,
		install.StageProvision,
	}, order)
}
