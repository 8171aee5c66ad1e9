// Package automation provides the rule engine for the smart home core.
//
// A Rule binds a Trigger to an Action. The Monitor wakes every tick,
// evaluates every rule against every registered device and runs the actions
// of the rules that trigger.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                 Monitor (monitor.go)                  │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │ DeviceSource │    │   RuleSet    │                 │
//	│  │  (snapshot)  │    │ (ruleset.go) │                 │
//	│  └──────────────┘    └──────────────┘                 │
//	│         │                   │                         │
//	│         ▼                   ▼                         │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Pass                                        │     │
//	│  │  1. Snapshot devices and rules               │     │
//	│  │  2. device x rule: ShouldTrigger             │     │
//	│  │  3. Execute, recovering errors and panics    │     │
//	│  │  4. Record firing (SQLite, MQTT, WS, Influx) │     │
//	│  │  5. Read energy of metered devices           │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Triggers
//
//   - TimeOfDay: once per day at HH:MM
//   - Weekly: at HH:MM on the given weekdays (every day when empty)
//   - Probabilistic: with probability p on every evaluation
//
// Time based triggers fire at most once per matching minute and re-arm
// when the clock leaves it. The tick interval must therefore stay below
// one minute. Probabilistic triggers have no debounce.
//
// # Thread Safety
//
// RuleSet is copy-on-write: a pass iterates the snapshot taken when it
// started, and rules added meanwhile are picked up on the next pass.
// Each rule guards its debounce state with its own mutex.
//
// # Usage
//
//	rules := automation.NewRuleSet()
//	trig, _ := automation.NewTimeOfDay("07:00")
//	rule, _ := automation.NewRule("Morning lights", trig,
//	    automation.DeviceAction(registry, "hall-light", device.Command{Name: device.CmdTurnOn}))
//	_ = rules.Add(rule)
//
//	mon := automation.NewMonitor(automation.MonitorConfig{
//	    Devices: registry,
//	    Rules:   rules,
//	    Logger:  log,
//	})
//	_ = mon.Start(ctx)
//	defer mon.Stop()
package automation
