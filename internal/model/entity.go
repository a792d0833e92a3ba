package model

// DeviceInfo описывает виртуальное устройство, к которому относятся сущности интеграции.
type DeviceInfo struct {
	Identifiers      [][2]string `json:"identifiers"`
	Manufacturer     string      `json:"manufacturer"`
	Model            string      `json:"model"`
	Name             string      `json:"name"`
	ConfigurationURL string      `json:"configuration_url"`
}

// EntityState описывает состояние сущности в том виде, в котором его принимает хост.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	UniqueID    string         `json:"unique_id"`
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	DeviceClass string         `json:"device_class,omitempty"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	Available   bool           `json:"available"`
	Device      DeviceInfo     `json:"device"`
}

// CalendarInfo описывает календарь хоста, доступный для выбора при настройке.
type CalendarInfo struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}
