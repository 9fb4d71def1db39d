// Package pubmed is the PubMed connector, built on the NCBI E-utilities
// esearch and efetch endpoints.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import "encoding/xml"

// ESearchResult is the esearch.fcgi response. Malformed queries come back
// with Error set and no ids.
type ESearchResult struct {
	XMLName        xml.Name `xml:"eSearchResult"`
	IDs            []string `xml:"IdList>Id"`
	PhraseNotFound []string `xml:"ErrorList>PhraseNotFound"`
	Error          string   `xml:"ERROR"`
}

// PubmedArticleSet is the efetch.fcgi response.
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

type PubmedArticle struct {
	PMID       string      `xml:"MedlineCitation>PMID"`
	Article    Article     `xml:"MedlineCitation>Article"`
	ArticleIDs []ArticleID `xml:"PubmedData>ArticleIdList>ArticleId"`
}

// Article holds the citation fields mapped onto a record.
type Article struct {
	Title         string         `xml:"ArticleTitle"`
	JournalTitle  string         `xml:"Journal>Title"`
	JournalAbbrev string         `xml:"Journal>ISOAbbreviation"`
	PubDate       PubDate        `xml:"Journal>JournalIssue>PubDate"`
	ELocationIDs  []ELocationID  `xml:"ELocationID"`
	AbstractTexts []AbstractText `xml:"Abstract>AbstractText"`
	Authors       []Author       `xml:"AuthorList>Author"`
	ArticleDates  []string       `xml:"ArticleDate>Year"`
}

// PubDate has either a Year or a free-form MedlineDate such as "2020 Jan-Feb".
type PubDate struct {
	Year        string `xml:"Year"`
	MedlineDate string `xml:"MedlineDate"`
}

// ELocationID is an electronic locator; EIdType is "doi" or "pii".
type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	ValidYN string `xml:"ValidYN,attr"`
	Value   string `xml:",chardata"`
}

// AbstractText is one section of a structured abstract. Label is empty for
// unstructured abstracts.
type AbstractText struct {
	Label string `xml:"Label,attr"`
	Value string `xml:",chardata"`
}

// Author is a person or, when CollectiveName is set, a group.
type Author struct {
	ValidYN        string `xml:"ValidYN,attr"`
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	Initials       string `xml:"Initials"`
	CollectiveName string `xml:"CollectiveName"`
}

type ArticleID struct {
	IdType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}
