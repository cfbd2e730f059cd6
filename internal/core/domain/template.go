package domain

// TemplateSpec describes one template variation the renderer should produce.
type TemplateSpec struct {
	Title      string `json:"title"`
	MainImage  string `json:"main_image"`
	Background string `json:"background"`
	Option     int    `json:"option"`
}

// Delivery is an uploaded template reachable by the destination.
type Delivery struct {
	Option    int    `json:"option"`
	MainImage string `json:"main_image"`
	URL       string `json:"url"`
}
