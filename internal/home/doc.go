// Package home assembles the smart home from its definition file and runs it.
//
// The home file (YAML) lists devices and automation rules. System registers
// them, restores persisted device state, accepts device commands over MQTT
// and drives the automation monitor. Console offers the same operations on
// an interactive line interface.
//
// Usage:
//
//	f, err := home.LoadFile("configs/home.yaml")
//	if err != nil {
//	    return err
//	}
//	sys := home.New(cfg.Monitor, home.Deps{Logger: log, States: states})
//	if err := sys.Load(f); err != nil {
//	    return err
//	}
//	if err := sys.Start(ctx); err != nil {
//	    return err
//	}
//	defer sys.Stop()
package home
