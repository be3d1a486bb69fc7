package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `{
	"discord": {
		"token": "token-123",
		"channelIds": ["111", "222"],
		"webhookUrl": "https://discord.com/api/webhooks/1/abc"
	},
	"symbols": [
		{"name": "BTC", "lotSize": "0.001", "positionCap": "5", "referencePrice": "65000"},
		{"name": "ETH", "lotSize": "0.01", "positionCap": "50", "referencePrice": "3000"}
	],
	"risk": {
		"confidenceThreshold": 0.7,
		"maxNotionalExposure": "250000",
		"rateLimit": 10,
		"rateWindowSeconds": 60
	},
	"extractor": {
		"confidenceThreshold": 0.6,
		"classifyTimeoutMillis": 2000,
		"defaultSize": "0.5",
		"maxAttempts": 3
	},
	"pipeline": {
		"inboundQueueSize": 512,
		"staleAfterSeconds": 30
	},
	"supervisor": {
		"maxRestarts": 5,
		"backoffMinMillis": 500,
		"backoffMaxMillis": 10000
	},
	"journal": {
		"dir": "/var/lib/sentinel/journal",
		"segmentMaxBytes": 1048576,
		"flushIntervalMillis": 100,
		"snapshotPath": "/var/lib/sentinel/snapshot.json"
	},
	"exchange": {
		"maxConnRetries": 3,
		"resyncTimeoutMillis": 5000,
		"paperFillChunks": 2
	},
	"telemetry": {"addr": ":8787"}
}`

func TestLoadValidConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Registry.Count() != 2 {
		t.Fatalf("symbol count mismatch! should be 2 but got %d", loaded.Registry.Count())
	}
	spec, ok := loaded.Registry.Symbol("BTC")
	if !ok {
		t.Fatal("BTC not registered")
	}
	if spec.LotSize.String() != "0.001" {
		t.Fatalf("lot size mismatch! should be 0.001 but got %s", spec.LotSize)
	}

	if loaded.Risk.MaxNotionalExposure.String() != "250000" {
		t.Fatalf("exposure mismatch: %s", loaded.Risk.MaxNotionalExposure)
	}
	if loaded.Risk.RateWindow != time.Minute {
		t.Fatalf("rate window mismatch! should be 1m but got %s", loaded.Risk.RateWindow)
	}
	if loaded.Extractor.ClassifyTimeout != 2*time.Second {
		t.Fatalf("classify timeout mismatch: %s", loaded.Extractor.ClassifyTimeout)
	}
	if loaded.Pipeline.StaleAfter != 30*time.Second {
		t.Fatalf("stale after mismatch: %s", loaded.Pipeline.StaleAfter)
	}
	if loaded.Pipeline.Supervisor.BackoffMin != 500*time.Millisecond {
		t.Fatalf("backoff min mismatch: %s", loaded.Pipeline.Supervisor.BackoffMin)
	}
	if loaded.Journal.Dir != "/var/lib/sentinel/journal" {
		t.Fatalf("journal dir mismatch: %s", loaded.Journal.Dir)
	}
	if loaded.SnapshotPath != "/var/lib/sentinel/snapshot.json" {
		t.Fatalf("snapshot path mismatch: %s", loaded.SnapshotPath)
	}
	if loaded.Exec.ResyncTimeout != 5*time.Second {
		t.Fatalf("resync timeout mismatch: %s", loaded.Exec.ResyncTimeout)
	}
	if loaded.Paper.FillChunks != 2 {
		t.Fatalf("fill chunks mismatch: %d", loaded.Paper.FillChunks)
	}
	if len(loaded.Discord.ChannelIDs) != 2 {
		t.Fatalf("channel count mismatch: %d", len(loaded.Discord.ChannelIDs))
	}
	if loaded.Telemetry.Addr != ":8787" {
		t.Fatalf("telemetry addr mismatch: %s", loaded.Telemetry.Addr)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	testCases := []struct {
		desc    string
		content string
	}{
		{
			desc:    "invalid json",
			content: `{"symbols": [`,
		},
		{
			desc:    "no symbols",
			content: `{"journal": {"dir": "/tmp/j", "snapshotPath": "/tmp/s.json"}}`,
		},
		{
			desc: "bad decimal",
			content: `{
				"symbols": [{"name": "BTC", "lotSize": "abc", "positionCap": "5", "referencePrice": "100"}],
				"journal": {"dir": "/tmp/j", "snapshotPath": "/tmp/s.json"}
			}`,
		},
		{
			desc: "zero lot size",
			content: `{
				"symbols": [{"name": "BTC", "lotSize": "0", "positionCap": "5", "referencePrice": "100"}],
				"journal": {"dir": "/tmp/j", "snapshotPath": "/tmp/s.json"}
			}`,
		},
		{
			desc: "empty symbol name",
			content: `{
				"symbols": [{"name": "", "lotSize": "0.1", "positionCap": "5", "referencePrice": "100"}],
				"journal": {"dir": "/tmp/j", "snapshotPath": "/tmp/s.json"}
			}`,
		},
		{
			desc: "missing journal dir",
			content: `{
				"symbols": [{"name": "BTC", "lotSize": "0.1", "positionCap": "5", "referencePrice": "100"}],
				"journal": {"snapshotPath": "/tmp/s.json"}
			}`,
		},
		{
			desc: "missing snapshot path",
			content: `{
				"symbols": [{"name": "BTC", "lotSize": "0.1", "positionCap": "5", "referencePrice": "100"}],
				"journal": {"dir": "/tmp/j"}
			}`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error")
	}
}
