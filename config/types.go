package config

// MARK: Config
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Network  NetworkConfig   `yaml:"network"`
	Browse   []string        `yaml:"browse"`
	Services []ServiceConfig `yaml:"services"`
}

// MARK: LogConfig
type LogConfig struct {
	Level string `yaml:"level"`
}

// MARK: NetworkConfig
type NetworkConfig struct {
	// Interface pins discovery to one interface by name or IP. Leave empty
	// for all multicast-capable interfaces.
	Interface   string `yaml:"interface"`
	DisableIPv4 bool   `yaml:"disable_ipv4"`
	DisableIPv6 bool   `yaml:"disable_ipv6"`
}

// MARK: ServiceConfig
type ServiceConfig struct {
	Name string            `yaml:"name"`
	Type string            `yaml:"type"`
	Port uint16            `yaml:"port"`
	Txt  map[string]string `yaml:"txt"`
}
