package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

const (
	DefaultSSHPort = 22
	DefaultADBPort = 5037
)

// SSHCommand returns the argv used to run a command on the remote machine.
// A password is passed through sshpass; otherwise password prompts are
// disabled and the configured key, if any, is used. Without a user ssh picks
// the login name itself.
func (m *MachineConfig) SSHCommand() []string {
	argv := []string{"ssh", "-o", "ConnectTimeout=8", "-o", "StrictHostKeyChecking=no"}
	if m.Password != "" {
		argv = append([]string{"sshpass", "-p", m.Password}, argv...)
	} else {
		argv = append(argv, "-o", "NumberOfPasswordPrompts=0")
		if m.KeyPath != "" {
			argv = append(argv, "-i", m.KeyPath)
		}
	}
	if port := m.sshPort(); port != DefaultSSHPort {
		argv = append(argv, "-p", strconv.Itoa(port))
	}
	if m.User != "" {
		argv = append(argv, "-l", m.User)
	}
	argv = append(argv, m.Address)
	return argv
}

// ADBCommand returns the argv of a shell on an Android device reached
// through an adb server.
func (m *MachineConfig) ADBCommand() []string {
	port := m.Port
	if port == 0 {
		port = DefaultADBPort
	}
	return []string{"adb", "-H", m.Address, "-P", strconv.Itoa(port), "shell"}
}

// RemotePrefix returns the command prefix for the machine type, or nil when
// commands run locally.
func (m *MachineConfig) RemotePrefix() ([]string, error) {
	if m == nil {
		return nil, nil
	}
	switch m.Type {
	case "", MachineLocal:
		return nil, nil
	case MachineSSH:
		return m.SSHCommand(), nil
	case MachineADB:
		return m.ADBCommand(), nil
	}
	return nil, fmt.Errorf("unknown machine type %q", m.Type)
}

func (m *MachineConfig) sshPort() int {
	if m.Port == 0 {
		return DefaultSSHPort
	}
	return m.Port
}

// DefaultSSHConfigPath returns ~/.ssh/config.
func DefaultSSHConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "config")
}

// ResolveSSHAlias fills address, user, port and key from the OpenSSH client
// config entry named by SSHAlias. Values already set explicitly win.
func (m *MachineConfig) ResolveSSHAlias(configPath string) error {
	if m.SSHAlias == "" {
		return nil
	}

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return fmt.Errorf("parse ssh config %s: %w", configPath, err)
	}

	get := func(key string) string {
		v, _ := cfg.Get(m.SSHAlias, key)
		return strings.TrimSpace(v)
	}

	if m.Address == "" {
		m.Address = get("HostName")
		if m.Address == "" {
			m.Address = m.SSHAlias
		}
	}
	if m.User == "" {
		m.User = get("User")
	}
	if m.Port == 0 {
		if p := get("Port"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("ssh config host %s: invalid port %q", m.SSHAlias, p)
			}
			m.Port = port
		}
	}
	if m.KeyPath == "" && m.Password == "" {
		if key := get("IdentityFile"); key != "" {
			m.KeyPath = expandHome(key)
		}
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
