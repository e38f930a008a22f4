package refdata

var documentTypes = [][2]string{
	{"CC", "Cédula de ciudadanía"},
	{"CE", "Cédula de extranjería"},
	{"TI", "Tarjeta de identidad"},
	{"RC", "Registro civil"},
	{"PA", "Pasaporte"},
	{"MS", "Menor sin identificación"},
	{"AS", "Adulto sin identificación"},
	{"CD", "Carné diplomático"},
	{"PE", "Permiso especial de permanencia"},
	{"PT", "Permiso por protección temporal"},
	{"CN", "Certificado de nacido vivo"},
	{"SC", "Salvoconducto"},
	{"NV", "Certificado de nacido vivo (anterior)"},
	{"DE", "Documento extranjero"},
	{"NI", "Número de identificación tributaria"},
}

var countries = [][2]string{
	{"032", "Argentina"},
	{"068", "Bolivia"},
	{"076", "Brasil"},
	{"124", "Canadá"},
	{"152", "Chile"},
	{"156", "China"},
	{"170", "Colombia"},
	{"188", "Costa Rica"},
	{"192", "Cuba"},
	{"214", "República Dominicana"},
	{"218", "Ecuador"},
	{"222", "El Salvador"},
	{"250", "Francia"},
	{"276", "Alemania"},
	{"320", "Guatemala"},
	{"340", "Honduras"},
	{"380", "Italia"},
	{"484", "México"},
	{"558", "Nicaragua"},
	{"591", "Panamá"},
	{"600", "Paraguay"},
	{"604", "Perú"},
	{"620", "Portugal"},
	{"724", "España"},
	{"826", "Reino Unido"},
	{"840", "Estados Unidos"},
	{"858", "Uruguay"},
	{"862", "Venezuela"},
}

var departments = [][2]string{
	{"05", "Antioquia"},
	{"08", "Atlántico"},
	{"11", "Bogotá, D.C."},
	{"13", "Bolívar"},
	{"15", "Boyacá"},
	{"17", "Caldas"},
	{"18", "Caquetá"},
	{"19", "Cauca"},
	{"20", "Cesar"},
	{"23", "Córdoba"},
	{"25", "Cundinamarca"},
	{"27", "Chocó"},
	{"41", "Huila"},
	{"44", "La Guajira"},
	{"47", "Magdalena"},
	{"50", "Meta"},
	{"52", "Nariño"},
	{"54", "Norte de Santander"},
	{"63", "Quindío"},
	{"66", "Risaralda"},
	{"68", "Santander"},
	{"70", "Sucre"},
	{"73", "Tolima"},
	{"76", "Valle del Cauca"},
	{"81", "Arauca"},
	{"85", "Casanare"},
	{"86", "Putumayo"},
	{"88", "San Andrés, Providencia y Santa Catalina"},
	{"91", "Amazonas"},
	{"94", "Guainía"},
	{"95", "Guaviare"},
	{"97", "Vaupés"},
	{"99", "Vichada"},
}

// DefaultEntries returns the built-in code lists.
func DefaultEntries() []Entry {
	var out []Entry
	add := func(kind Kind, list [][2]string) {
		for _, p := range list {
			out = append(out, Entry{Kind: kind, Code: p[0], Description: p[1], Active: true})
		}
	}
	add(KindDocumentType, documentTypes)
	add(KindCountry, countries)
	add(KindDepartment, departments)
	return out
}

// Default returns a catalog of the built-in code lists.
func Default() *Catalog {
	c, err := NewCatalog(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return c
}
