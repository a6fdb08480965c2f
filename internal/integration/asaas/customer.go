package asaas

import (
	"context"
	"net/url"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
)

// CustomerResponse представляет клиента в Asaas
type CustomerResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj"`
	ExternalReference string `json:"externalReference"`
	Deleted           bool   `json:"deleted"`
}

type customerRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// CreateOrGetCustomer ищет клиента по email и создает его, если не найден.
func (c *Client) CreateOrGetCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	var found listResponse[CustomerResponse]
	if err := c.do(ctx, "find_customer", "GET", "/customers?email="+url.QueryEscape(req.Email), nil, &found); err != nil {
		return "", err
	}

	for _, existing := range found.Data {
		if !existing.Deleted {
			c.log.Debugw("Reusing existing Asaas customer", "customerID", existing.ID, "email", req.Email)
			return existing.ID, nil
		}
	}

	name := req.Name
	if name == "" {
		name = req.Email
	}

	var created CustomerResponse
	err := c.do(ctx, "create_customer", "POST", "/customers", customerRequest{
		Name:              name,
		Email:             req.Email,
		CpfCnpj:           req.TaxID,
		ExternalReference: req.ExternalReference,
	}, &created)
	if err != nil {
		return "", err
	}

	c.log.Infow("Created Asaas customer", "customerID", created.ID, "userID", req.ExternalReference)
	return created.ID, nil
}
