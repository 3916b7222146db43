package model

import "time"

// Contact sources
const (
	SourceApolloLeadGen       = "apollo_leadgen"
	SourcePrecisionExpedited  = "precision_expedited"
	DefaultContactFrequency   = 7
	ActivityTypeContactCreate = "contact_created"
)

// Contact is a CRM contact produced by lead generation
type Contact struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Company          string    `json:"company"`
	Position         string    `json:"position"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	LinkedIn         string    `json:"linkedin"`
	Notes            string    `json:"notes"`
	Source           string    `json:"source"`
	NextContactDate  time.Time `json:"next_contact_date"`
	ContactFrequency int       `json:"contact_frequency"`
}

// Activity is an audit entry attached to a contact
type Activity struct {
	ContactID   int64             `json:"contactId"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Company is one row of the generated company list
type Company struct {
	Name    string `json:"company_name"`
	Website string `json:"company_website"`
}

// Organization is a directory search hit for a company
type Organization struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WebsiteURL    string `json:"website_url"`
	PrimaryDomain string `json:"primary_domain"`
}

// Website returns the best known site for the organization
func (o Organization) Website() string {
	if o.WebsiteURL != "" {
		return o.WebsiteURL
	}
	return o.PrimaryDomain
}

// Person is a directory search hit for an employee
type Person struct {
	Name        string `json:"name"`
	FirstName   string `json:"first_name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phone_number"`
	LinkedInURL string `json:"linkedin_url"`
	Country     string `json:"country"`
}

// ScrapedCustomer is one customer name captured by the scraper
type ScrapedCustomer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	BatchID   string    `json:"scrape_session_id"`
	ScrapedAt time.Time `json:"scraped_at"`
}
