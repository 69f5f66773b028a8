// Command protocolschema renders the wire protocol as JSON Schema, one schema
// per message type, for client authors who do not read Go. Regenerate after
// touching internal/wire/messages.go:
//
//	go run ./tools/protocolschema -o docs/protocol.schema.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/iancoleman/orderedmap"
	"github.com/invopop/jsonschema"

	"nightwatch/engine/internal/wire"
)

// catalogue pairs every message type with its payload shape, in protocol
// order. Keep it in sync with the constants in internal/wire.
var catalogue = []struct {
	Type    string
	Payload any
}{
	{wire.TypePatrolStart, wire.PatrolControlPayload{}},
	{wire.TypePatrolStop, wire.PatrolControlPayload{}},
	{wire.TypePatrolPause, wire.PatrolControlPayload{}},
	{wire.TypePatrolResume, wire.PatrolControlPayload{}},
	{wire.TypePatrolUpdate, wire.PatrolUpdatePayload{}},
	{wire.TypeTokenAppear, wire.TokenVisibilityPayload{}},
	{wire.TypeTokenDisappear, wire.TokenVisibilityPayload{}},
	{wire.TypePlayAppearEffect, wire.EffectPayload{}},
	{wire.TypePlayDisappearEffect, wire.EffectPayload{}},
	{wire.TypeAlertTriggered, wire.AlertTriggeredPayload{}},
	{wire.TypeAlertPopup, wire.AlertPopupPayload{}},
	{wire.TypeOpenInteractionWindow, wire.OpenInteractionWindowPayload{}},
	{wire.TypeInteractionResponse, wire.InteractionResponsePayload{}},
	{wire.TypeBleedOutSave, wire.BleedOutSavePayload{}},
	{wire.TypeBleedOutResult, wire.BleedOutResultPayload{}},
	{wire.TypePullToScene, wire.PullToScenePayload{}},
	{wire.TypeRequestSync, wire.RequestSyncPayload{}},
	{wire.TypeSyncAll, wire.SyncAllPayload{}},
	{wire.TypeSyncPatrol, wire.SyncPatrolPayload{}},
}

func main() {
	out := flag.String("o", "", "output path (stdout when empty)")
	flag.Parse()

	data, err := render()
	if err != nil {
		fmt.Fprintf(os.Stderr, "protocolschema: %v\n", err)
		os.Exit(1)
	}
	if *out == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "protocolschema: %v\n", err)
		os.Exit(1)
	}
}

func render() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	// Ordered maps keep the output diffable run to run.
	envelope := orderedmap.New()
	envelope.Set("$schema", "http://json-schema.org/draft-07/schema#")
	envelope.Set("title", "Patrol engine wire protocol")
	envelope.Set("version", wire.Version)

	messages := orderedmap.New()
	for _, entry := range catalogue {
		messages.Set(entry.Type, reflector.Reflect(entry.Payload))
	}
	envelope.Set("messages", messages)

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema document: %w", err)
	}
	return append(data, '\n'), nil
}
