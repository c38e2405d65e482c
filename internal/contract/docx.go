// Package contract renders installment contracts as Word (.docx) documents.
package contract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// Kind selects which party the contract is drawn up for.
type Kind string

const (
	KindCustomer  Kind = "customer"
	KindGuarantor Kind = "guarantor"
)

// ErrNoGuarantor is returned for a guarantee agreement on a customer without one.
var ErrNoGuarantor = errors.New("customer has no guarantor")

const (
	wordNS       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	relNS        = "http://schemas.openxmlformats.org/package/2006/relationships"
	officeDocRel = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	docxMIME     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// ContentType is the MIME type of the generated files.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Company identifies the seller on the contract.
type Company struct {
	Name    string
	Address string
	City    string
}

// Generator builds contracts for one seller.
type Generator struct {
	company Company
	loc     *time.Location
}

// NewGenerator creates a generator that prints dates in loc.
func NewGenerator(company Company, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{company: company, loc: loc}
}

// FileName is the download name of a contract.
func FileName(kind Kind, c *models.Customer) string {
	if kind == KindGuarantor {
		return fmt.Sprintf("guarantee-%d.docx", c.ID)
	}
	return fmt.Sprintf("contract-%d.docx", c.ID)
}

// Generate renders the contract of kind for c, dated now.
func (g *Generator) Generate(kind Kind, c *models.Customer, now time.Time) ([]byte, error) {
	if kind == KindGuarantor && c.Guarantor == nil {
		return nil, fmt.Errorf("customer %d: %w", c.ID, ErrNoGuarantor)
	}
	if kind != KindCustomer && kind != KindGuarantor {
		return nil, fmt.Errorf("unknown contract kind %q", kind)
	}

	plan, err := installment.ComputePlan(installment.PlanInput{
		OriginalPrice:    c.Product.OriginalPrice,
		ProfitPercentage: c.Product.ProfitPercentage,
		MarkupAmount:     c.Product.MarkupAmount,
		InitialPayment:   c.CreditInfo.InitialPayment,
		Months:           c.Product.InstallmentMonths,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild plan for customer %d: %w", c.ID, err)
	}

	doc := newDocument()
	body := doc.Root().CreateElement("w:body")

	if kind == KindGuarantor {
		g.guaranteeBody(body, c, now)
	} else {
		g.contractBody(body, c, now)
	}
	g.planSection(body, c, plan)
	g.signatures(body, c, kind)
	sectionProperties(body)

	documentXML, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return pack(documentXML)
}

func (g *Generator) contractBody(body *etree.Element, c *models.Customer, now time.Time) {
	heading(body, fmt.Sprintf("INSTALLMENT SALE CONTRACT No. %d", c.ID))
	g.placeAndDate(body, now)

	paragraph(body, fmt.Sprintf(
		"%s, located at %s (the Seller), and %s, passport %s, residing at %s (the Buyer), "+
			"have concluded this contract as follows.",
		g.company.Name, orDash(g.company.Address), c.FullName, orDash(c.PassportSeries), address(c.Region, c.District, c.Address)))
	paragraph(body, fmt.Sprintf(
		"1. The Seller transfers to the Buyer the goods \"%s\" and the Buyer pays for them in installments "+
			"on the terms below.", c.Product.Name))
	paragraph(body, "2. The Buyer pays each installment no later than the due date in the schedule. "+
		"Early payment reduces the remaining installments.")
	paragraph(body, fmt.Sprintf("3. Buyer phone: %s.", c.Phone))
}

func (g *Generator) guaranteeBody(body *etree.Element, c *models.Customer, now time.Time) {
	gr := c.Guarantor
	heading(body, fmt.Sprintf("GUARANTEE AGREEMENT to contract No. %d", c.ID))
	g.placeAndDate(body, now)

	relation := ""
	if gr.Relation != "" {
		relation = fmt.Sprintf(" (%s of the Buyer)", gr.Relation)
	}
	paragraph(body, fmt.Sprintf(
		"%s, passport %s, residing at %s%s (the Guarantor), undertakes to %s (the Seller) "+
			"to answer for the obligations of %s (the Buyer) under installment sale contract No. %d.",
		gr.FullName, orDash(gr.PassportSeries), address(gr.Region, gr.District, gr.Address), relation,
		g.company.Name, c.FullName, c.ID))
	paragraph(body, "1. If the Buyer misses an installment, the Guarantor pays it on the Seller's demand.")
	paragraph(body, "2. The guarantee is valid until the Buyer's obligations are fully performed.")
	paragraph(body, fmt.Sprintf("3. Guarantor phone: %s.", gr.Phone))
}

func (g *Generator) placeAndDate(body *etree.Element, now time.Time) {
	paragraph(body, fmt.Sprintf("%s, %s", orDash(g.company.City), now.In(g.loc).Format("02.01.2006")))
}

func (g *Generator) planSection(body *etree.Element, c *models.Customer, plan installment.Plan) {
	paragraph(body, "Terms of sale")
	table(body, [][]string{
		{"Goods", c.Product.Name},
		{"Price", Money(c.Product.OriginalPrice)},
		{"Markup", Money(plan.Markup)},
		{"Selling price", Money(plan.SellingPrice)},
		{"Initial payment", Money(plan.InitialPayment)},
		{"Paid in installments", Money(plan.FinancedAmount)},
		{"Term, months", fmt.Sprintf("%d", plan.Months)},
		{"Monthly payment", Money(plan.MonthlyPayment)},
	})

	if plan.FinancedAmount.IsZero() {
		return
	}
	paragraph(body, "Payment schedule")
	rows := [][]string{{"No.", "Due date", "Amount"}}
	for _, inst := range installment.Schedule(plan, c.CreditInfo.StartDate.In(g.loc)) {
		rows = append(rows, []string{
			fmt.Sprintf("%d", inst.Number),
			inst.DueDate.In(g.loc).Format("02.01.2006"),
			Money(inst.Amount),
		})
	}
	table(body, rows)
}

func (g *Generator) signatures(body *etree.Element, c *models.Customer, kind Kind) {
	paragraph(body, "")
	paragraph(body, fmt.Sprintf("Seller: %s  ____________________", g.company.Name))
	paragraph(body, fmt.Sprintf("Buyer: %s  ____________________", c.FullName))
	if kind == KindGuarantor {
		paragraph(body, fmt.Sprintf("Guarantor: %s  ____________________", c.Guarantor.FullName))
	}
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("w:document")
	root.CreateAttr("xmlns:w", wordNS)
	return doc
}

func heading(body *etree.Element, text string) {
	p := body.CreateElement("w:p")
	p.CreateElement("w:pPr").CreateElement("w:jc").CreateAttr("w:val", "center")
	run(p, text, true)
}

func paragraph(body *etree.Element, text string) {
	p := body.CreateElement("w:p")
	if text != "" {
		run(p, text, false)
	}
}

func run(p *etree.Element, text string, bold bool) {
	r := p.CreateElement("w:r")
	if bold {
		r.CreateElement("w:rPr").CreateElement("w:b")
	}
	t := r.CreateElement("w:t")
	t.CreateAttr("xml:space", "preserve")
	t.SetText(text)
}

func table(body *etree.Element, rows [][]string) {
	tbl := body.CreateElement("w:tbl")
	props := tbl.CreateElement("w:tblPr")
	props.CreateElement("w:tblW").CreateAttr("w:type", "auto")
	borders := props.CreateElement("w:tblBorders")
	for _, side := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		b := borders.CreateElement("w:" + side)
		b.CreateAttr("w:val", "single")
		b.CreateAttr("w:sz", "4")
		b.CreateAttr("w:space", "0")
		b.CreateAttr("w:color", "000000")
	}
	for _, row := range rows {
		tr := tbl.CreateElement("w:tr")
		for _, cell := range row {
			tc := tr.CreateElement("w:tc")
			run(tc.CreateElement("w:p"), cell, false)
		}
	}
}

func sectionProperties(body *etree.Element) {
	sect := body.CreateElement("w:sectPr")
	size := sect.CreateElement("w:pgSz")
	size.CreateAttr("w:w", "11906")
	size.CreateAttr("w:h", "16838")
	margins := sect.CreateElement("w:pgMar")
	for _, m := range [][2]string{{"w:top", "1134"}, {"w:right", "850"}, {"w:bottom", "1134"}, {"w:left", "1701"}} {
		margins.CreateAttr(m[0], m[1])
	}
}

// pack zips the package parts a word processor needs to open the document.
func pack(documentXML []byte) ([]byte, error) {
	contentTypes := etree.NewDocument()
	contentTypes.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	types := contentTypes.CreateElement("Types")
	types.CreateAttr("xmlns", "http://schemas.openxmlformats.org/package/2006/content-types")
	def := types.CreateElement("Default")
	def.CreateAttr("Extension", "rels")
	def.CreateAttr("ContentType", "application/vnd.openxmlformats-package.relationships+xml")
	def = types.CreateElement("Default")
	def.CreateAttr("Extension", "xml")
	def.CreateAttr("ContentType", "application/xml")
	override := types.CreateElement("Override")
	override.CreateAttr("PartName", "/word/document.xml")
	override.CreateAttr("ContentType", docxMIME)

	rels := etree.NewDocument()
	rels.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	relationships := rels.CreateElement("Relationships")
	relationships.CreateAttr("xmlns", relNS)
	rel := relationships.CreateElement("Relationship")
	rel.CreateAttr("Id", "rId1")
	rel.CreateAttr("Type", officeDocRel)
	rel.CreateAttr("Target", "word/document.xml")

	parts := []struct {
		name string
		doc  *etree.Document
		raw  []byte
	}{
		{name: "[Content_Types].xml", doc: contentTypes},
		{name: "_rels/.rels", doc: rels},
		{name: "word/document.xml", raw: documentXML},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range parts {
		data := part.raw
		if part.doc != nil {
			var err error
			if data, err = part.doc.WriteToBytes(); err != nil {
				return nil, fmt.Errorf("failed to serialize %s: %w", part.name, err)
			}
		}
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", part.name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Money formats an amount with two decimals and space-grouped thousands.
func Money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

func address(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
