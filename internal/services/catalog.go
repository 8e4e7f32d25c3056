package services

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/greencredits/report-server/internal/models"
)

// Catalog is the read-only reward lookup used by redemptions.
type Catalog interface {
	Reward(id string) (models.Reward, bool)
	Rewards() []models.Reward
}

// StaticCatalog is an in-memory catalog fixed at construction.
type StaticCatalog struct {
	order []string
	byID  map[string]models.Reward
}

// NewStaticCatalog indexes rewards by id. Costs must not be negative.
func NewStaticCatalog(rewards []models.Reward) (*StaticCatalog, error) {
	c := &StaticCatalog{byID: make(map[string]models.Reward, len(rewards))}
	for _, r := range rewards {
		if r.ID == "" {
			return nil, fmt.Errorf("catalog: reward with empty id")
		}
		if r.Cost < 0 {
			return nil, fmt.Errorf("catalog: reward %q has negative cost", r.ID)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate reward %q", r.ID)
		}
		c.byID[r.ID] = r
		c.order = append(c.order, r.ID)
	}
	return c, nil
}

// LoadCatalogFile reads [[reward]] tables from a TOML file.
func LoadCatalogFile(path string) (*StaticCatalog, error) {
	var doc struct {
		Rewards []models.Reward `toml:"reward"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return NewStaticCatalog(doc.Rewards)
}

func (c *StaticCatalog) Reward(id string) (models.Reward, bool) {
	r, ok := c.byID[id]
	return r, ok
}

func (c *StaticCatalog) Rewards() []models.Reward {
	out := make([]models.Reward, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// DefaultRewards is the launch catalog.
func DefaultRewards() []models.Reward {
	return []models.Reward{
		{ID: "amazon50", Name: "₹50 Amazon Voucher", Category: "vouchers", Cost: 10, Icon: "🛒", Stock: "Unlimited", Description: "Amazon gift card worth ₹50"},
		{ID: "flipkart100", Name: "₹100 Flipkart Voucher", Category: "vouchers", Cost: 1000, Icon: "🛍️", Stock: "Unlimited", Description: "Flipkart gift voucher"},
		{ID: "zomato200", Name: "₹200 Zomato Voucher", Category: "vouchers", Cost: 2000, Icon: "🍔", Stock: "Limited", Description: "Zomato food voucher"},
		{ID: "tshirt", Name: "GreenCredits T-Shirt", Category: "products", Cost: 1500, Icon: "👕", Stock: "50 left", Description: "Premium eco-friendly cotton t-shirt"},
		{ID: "bottle", Name: "Steel Water Bottle", Category: "products", Cost: 800, Icon: "🍶", Stock: "100 left", Description: "Reusable steel water bottle"},
		{ID: "bag", Name: "Eco Jute Bag", Category: "products", Cost: 600, Icon: "👜", Stock: "Unlimited", Description: "Reusable jute shopping bag"},
		{ID: "tree", Name: "Plant 5 Trees", Category: "donations", Cost: 500, Icon: "🌳", Stock: "Unlimited", Description: "Plant 5 trees in your name"},
		{ID: "cleanup", Name: "Fund Beach Cleanup", Category: "donations", Cost: 1000, Icon: "🏖️", Stock: "Unlimited", Description: "Support coastal cleanup drive"},
		{ID: "ngo", Name: "Donate to NGO", Category: "donations", Cost: 2000, Icon: "❤️", Stock: "Unlimited", Description: "Support environmental NGOs"},
		{ID: "cleaning", Name: "Free Home Waste Pickup", Category: "services", Cost: 0, Icon: "🚛", Stock: "20 left", Description: "One-time free waste pickup service"},
		{ID: "consultation", Name: "Waste Management Consultation", Category: "services", Cost: 1200, Icon: "👨‍🏫", Stock: "10 left", Description: "1-hour expert consultation"},
	}
}
