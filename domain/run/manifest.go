package run

import (
	"fmt"

	"connectomix/domain/core"
)

// Fingerprint ties an invocation to everything that determines its
// outputs. Two invocations with equal fingerprints over the same input
// data produce identical artifacts.
type Fingerprint struct {
	ConfigHash  core.ConfigHash `json:"config_hash"`
	Method      string          `json:"method"`
	Measures    string          `json:"measures"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"` // hash of all above
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(configHash core.ConfigHash, method, measures, codeVersion string) Fingerprint {
	data := fmt.Sprintf("config:%s|method:%s|measures:%s|code:%s",
		configHash, method, measures, codeVersion)
	return Fingerprint{
		ConfigHash:  configHash,
		Method:      method,
		Measures:    measures,
		CodeVersion: codeVersion,
		Fingerprint: core.NewHash([]byte(data)),
	}
}

// UnitFingerprint hashes everything that determines one subject-run
// result. Two ledger rows with equal fingerprints came from the same
// input file under the same configuration and code.
func UnitFingerprint(invocation core.InvocationID, inputPath string, configHash core.ConfigHash, codeVersion string) core.Hash {
	data := fmt.Sprintf("invocation:%s|input:%s|config:%s|code:%s",
		invocation, inputPath, configHash, codeVersion)
	return core.NewHash([]byte(data))
}

// Manifest is the invocation-level record: who ran what, over which
// units, with what configuration. Written before any unit starts so a
// crashed invocation still leaves a trace.
type Manifest struct {
	InvocationID core.InvocationID `json:"invocation_id"`
	Fingerprint  Fingerprint       `json:"fingerprint"`
	DatasetRoot  string            `json:"dataset_root"`
	OutputRoot   string            `json:"output_root"`
	Units        []Unit            `json:"units"`
	StartedAt    core.Timestamp    `json:"started_at"`
}

// NewManifest stamps a fresh invocation record
func NewManifest(fp Fingerprint, datasetRoot, outputRoot string, units []Unit) *Manifest {
	return &Manifest{
		InvocationID: core.NewInvocationID(),
		Fingerprint:  fp,
		DatasetRoot:  datasetRoot,
		OutputRoot:   outputRoot,
		Units:        units,
		StartedAt:    core.Now(),
	}
}

// Validate checks the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.InvocationID).IsEmpty() {
		return core.NewConfigurationError("manifest has no invocation id")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewConfigurationError("manifest has no fingerprint")
	}
	if len(m.Units) == 0 {
		return core.NewConfigurationError("manifest lists no units")
	}
	for _, u := range m.Units {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	return nil
}
